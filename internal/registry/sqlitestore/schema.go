package sqlitestore

const schema = `
CREATE TABLE IF NOT EXISTS study (
	id TEXT PRIMARY KEY,
	name TEXT,
	date TEXT,
	pseudo_id TEXT NOT NULL UNIQUE,
	pseudo_name TEXT NOT NULL,
	pseudo_date TEXT
);

CREATE TABLE IF NOT EXISTS patient (
	id TEXT PRIMARY KEY,
	name TEXT,
	sex TEXT NOT NULL DEFAULT 'unknown',
	age INTEGER,
	pseudo_id TEXT NOT NULL UNIQUE,
	pseudo_name TEXT,
	pseudo_age INTEGER
);

CREATE TABLE IF NOT EXISTS case_entity (
	id TEXT PRIMARY KEY,
	name TEXT,
	created_at TEXT,
	pseudo_id TEXT NOT NULL UNIQUE,
	pseudo_name TEXT NOT NULL,
	pseudo_created_at TEXT
);

CREATE TABLE IF NOT EXISTS slide (
	id TEXT PRIMARY KEY,
	name TEXT,
	acquired_at TEXT,
	stain TEXT,
	tissue TEXT,
	path TEXT NOT NULL,
	pseudo_id TEXT NOT NULL UNIQUE,
	pseudo_name TEXT,
	pseudo_acquired_at TEXT,
	label_blob_name TEXT,
	label_blob_key TEXT,
	metadata_blob_name TEXT,
	metadata_blob_key TEXT
);

CREATE TABLE IF NOT EXISTS study_patient (
	study_id TEXT NOT NULL REFERENCES study(id),
	patient_id TEXT NOT NULL REFERENCES patient(id),
	PRIMARY KEY (study_id, patient_id)
);

CREATE TABLE IF NOT EXISTS case_slide (
	case_id TEXT NOT NULL REFERENCES case_entity(id),
	slide_id TEXT NOT NULL REFERENCES slide(id),
	PRIMARY KEY (case_id, slide_id)
);

CREATE TABLE IF NOT EXISTS patient_slide (
	patient_id TEXT NOT NULL REFERENCES patient(id),
	slide_id TEXT NOT NULL REFERENCES slide(id),
	PRIMARY KEY (patient_id, slide_id)
);
`
