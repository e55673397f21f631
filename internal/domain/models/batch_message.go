package models

// BatchMessage is the Kafka payload for one formatted chunk of a table. Rows
// follow Columns order; NaN floats travel as null.
type BatchMessage struct {
	Table   string   `json:"table"`
	Symbol  string   `json:"symbol,omitempty"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}
