package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"

	// Board / page fields
	FieldBoardID   = "board_id"
	FieldPage      = "page"
	FieldPageID    = "page_id"
	FieldMaxPages  = "max_pages"
	FieldUUID      = "uuid"
	FieldTask      = "task"
	FieldAttempt   = "attempt"
	FieldPoolKind  = "pool_kind"
	FieldPoolTotal = "pool_total"

	// Media fields
	FieldFormat   = "format"
	FieldCodec    = "codec"
	FieldFPS      = "fps"
	FieldPath     = "path"
	FieldElapsed  = "elapsed"
	FieldExpected = "expected"
	FieldBytes    = "bytes"
)
