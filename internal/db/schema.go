package db

// SchemaSQL defines the contract cache tables.
// The resolved contract is stored as its JSON encoding so the file and
// database backends share one representation.
const SchemaSQL = `
    -- ==========================================================================
    -- CONTRACT TABLE (resolved contract cache)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS contract SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS contract_id ON contract TYPE int;
    DEFINE FIELD IF NOT EXISTS status ON contract TYPE string;
    DEFINE FIELD IF NOT EXISTS payload ON contract TYPE string;
    DEFINE FIELD IF NOT EXISTS updated_at ON contract TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS contract_status ON contract FIELDS status;

    -- ==========================================================================
    -- POST_INDEX TABLE (entity -> destination post)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS post_index SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS kind ON post_index TYPE string;
    DEFINE FIELD IF NOT EXISTS entity_id ON post_index TYPE int;
    DEFINE FIELD IF NOT EXISTS post_id ON post_index TYPE int;
    DEFINE FIELD IF NOT EXISTS updated_at ON post_index TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS post_index_entity ON post_index FIELDS kind, entity_id UNIQUE;
`
