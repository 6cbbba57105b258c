package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- JOB TABLE (upload processing lifecycle)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string
        ASSERT $value IN ["queued", "running", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS upload_key ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS original_name ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS rows_total ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS rows_processed ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS tokens_in ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS tokens_out ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS output_key ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS snapshot_key ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS finished_at ON job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;
    DEFINE INDEX IF NOT EXISTS job_owner ON job FIELDS owner_id;

    -- ==========================================================================
    -- PAIR_RECORD TABLE (durable per-pair aggregate)
    -- ==========================================================================
    -- Counts only ever increase via merges; the stats fields are derived and
    -- overwritten wholesale after each merge.
    DEFINE TABLE IF NOT EXISTS pair_record SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pair_key ON pair_record TYPE string;
    DEFINE FIELD IF NOT EXISTS concept_a ON pair_record TYPE string;
    DEFINE FIELD IF NOT EXISTS code_a ON pair_record TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS system_a ON pair_record TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS type_a ON pair_record TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS concept_b ON pair_record TYPE string;
    DEFINE FIELD IF NOT EXISTS code_b ON pair_record TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS system_b ON pair_record TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS type_b ON pair_record TYPE string DEFAULT "";

    DEFINE FIELD IF NOT EXISTS cooc_obs ON pair_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS n_a ON pair_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS n_b ON pair_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS total_persons ON pair_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS cooc_event_count ON pair_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS a_before_b ON pair_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS b_before_a ON pair_record TYPE int DEFAULT 0;

    DEFINE FIELD IF NOT EXISTS expected_obs ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS lift ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS lift_lower_95 ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS lift_upper_95 ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS z_score ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS odds_ratio ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS odds_ratio_lower_95 ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS odds_ratio_upper_95 ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS directionality_ratio ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS dir_lower_95 ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS dir_upper_95 ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS confidence_a_to_b ON pair_record TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS confidence_b_to_a ON pair_record TYPE float DEFAULT 0;

    DEFINE FIELD IF NOT EXISTS rel_type ON pair_record TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS rel_label ON pair_record TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS rationale ON pair_record TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS classifier_model ON pair_record TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS classified_at ON pair_record TYPE option<datetime>;

    DEFINE FIELD IF NOT EXISTS source_count ON pair_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS status ON pair_record TYPE string DEFAULT "active";
    DEFINE FIELD IF NOT EXISTS created_at ON pair_record TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON pair_record TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS pair_record_key ON pair_record FIELDS pair_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS pair_record_rel_type ON pair_record FIELDS rel_type;

    -- ==========================================================================
    -- LLM_CACHE TABLE (content-addressed classifier results)
    -- ==========================================================================
    -- Record ID doubles as the prompt hash, so cache writes are natural upserts.
    DEFINE TABLE IF NOT EXISTS llm_cache SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS prompt_key ON llm_cache TYPE string;
    DEFINE FIELD IF NOT EXISTS model ON llm_cache TYPE string;
    DEFINE FIELD IF NOT EXISTS result ON llm_cache TYPE string;
    DEFINE FIELD IF NOT EXISTS tokens_in ON llm_cache TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS tokens_out ON llm_cache TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON llm_cache TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS llm_cache_key ON llm_cache FIELDS prompt_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS llm_cache_created ON llm_cache FIELDS created_at;
`
