package models

// Requests for ops HTTP endpoints.

type KlinesQuery struct {
	Table  string `query:"table" json:"table" validate:"required"`
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type GapsQuery struct {
	Table    string `query:"table" json:"table" validate:"required"`
	Symbol   string `query:"symbol" json:"symbol" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w"`
	From     string `query:"from" json:"from" validate:"required"`
	To       string `query:"to" json:"to" validate:"required"`
	Column   string `query:"column" json:"column"`
}

type SupplyRequest struct {
	Table    string `json:"table" validate:"required"`
	Source   string `json:"source"`
	Symbol   string `json:"symbol" validate:"required"`
	Interval string `json:"interval" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w"`
	From     string `json:"from" validate:"required"`
	To       string `json:"to" validate:"required"`
}
