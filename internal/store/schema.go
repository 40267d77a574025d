package store

// schema is applied on every Open. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS credit_balances (
    tenant_id  TEXT PRIMARY KEY,
    balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    id                   TEXT PRIMARY KEY,
    tenant_id            TEXT NOT NULL,
    file_name            TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'pending',
    page_count           INTEGER NOT NULL DEFAULT 0,
    items_extracted      INTEGER NOT NULL DEFAULT 0,
    error_code           TEXT NOT NULL DEFAULT '',
    error_message        TEXT NOT NULL DEFAULT '',
    exported_at          TIMESTAMP,
    export_batch_id      TEXT NOT NULL DEFAULT '',
    found_revenue        INTEGER NOT NULL DEFAULT 0,
    review_status        TEXT NOT NULL DEFAULT '',
    review_reasons       TEXT NOT NULL DEFAULT '[]',
    total_paid_cents     INTEGER,
    total_patient_cents  INTEGER,
    claim_count          INTEGER,
    created_at           TIMESTAMP NOT NULL,
    updated_at           TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, updated_at);

CREATE TABLE IF NOT EXISTS page_jobs (
    id              TEXT PRIMARY KEY,
    document_id     TEXT NOT NULL REFERENCES documents(id),
    tenant_id       TEXT NOT NULL,
    page_number     INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'queued',
    attempts        INTEGER NOT NULL DEFAULT 0,
    max_attempts    INTEGER NOT NULL DEFAULT 3,
    storage_store   TEXT NOT NULL DEFAULT '',
    storage_bucket  TEXT NOT NULL DEFAULT '',
    storage_key     TEXT NOT NULL DEFAULT '',
    items_extracted INTEGER NOT NULL DEFAULT 0,
    raw_response    TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL,
    UNIQUE (document_id, page_number)
);

CREATE INDEX IF NOT EXISTS idx_page_jobs_status ON page_jobs(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_page_jobs_document ON page_jobs(document_id);

CREATE TABLE IF NOT EXISTS line_items (
    id                 TEXT PRIMARY KEY,
    document_id        TEXT NOT NULL,
    page_number        INTEGER NOT NULL,
    tenant_id          TEXT NOT NULL,
    line_type          TEXT NOT NULL DEFAULT 'medical_service',
    patient_name       TEXT NOT NULL DEFAULT '',
    member_id          TEXT NOT NULL DEFAULT '',
    service_date       TEXT NOT NULL DEFAULT '',
    procedure_code     TEXT NOT NULL DEFAULT '',
    claim_number       TEXT NOT NULL DEFAULT '',
    payer_name         TEXT NOT NULL DEFAULT '',
    payment_date       TEXT NOT NULL DEFAULT '',
    check_number       TEXT NOT NULL DEFAULT '',
    billed_cents       INTEGER,
    allowed_cents      INTEGER,
    paid_cents         INTEGER,
    patient_resp_cents INTEGER,
    adjustment_cents   INTEGER,
    deductible_cents   INTEGER,
    coinsurance_cents  INTEGER,
    copay_cents        INTEGER,
    contractual_cents  INTEGER,
    non_covered_cents  INTEGER,
    confidence         REAL NOT NULL DEFAULT 0,
    flagged            INTEGER NOT NULL DEFAULT 0,
    flag_reasons       TEXT NOT NULL DEFAULT '[]',
    created_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_items_page ON line_items(document_id, page_number);
CREATE INDEX IF NOT EXISTS idx_line_items_claim ON line_items(document_id, claim_number);
`
