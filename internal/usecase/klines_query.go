package usecase

import (
	"context"
	"fmt"
	"time"

	drepo "Pond/internal/domain/repository"
	"Pond/internal/domain/table"
)

// KlinesQueryUseCase reads stored bars back for the ops API.
type KlinesQueryUseCase struct {
	store drepo.KlineStore
}

func NewKlinesQueryUseCase(store drepo.KlineStore) *KlinesQueryUseCase {
	return &KlinesQueryUseCase{store: store}
}

type GetKlinesParams struct {
	Table  string
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetKlinesResult struct {
	Table  string           `json:"table"`
	Symbol string           `json:"symbol"`
	From   time.Time        `json:"from"`
	To     time.Time        `json:"to"`
	Count  int              `json:"count"`
	Rows   []map[string]any `json:"rows"`
}

func (uc *KlinesQueryUseCase) GetKlines(ctx context.Context, p GetKlinesParams) (*GetKlinesResult, error) {
	desc, ok := table.Lookup(p.Table)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTable, p.Table)
	}
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 500
	}
	if p.Limit > 10000 {
		p.Limit = 10000
	}

	rows, err := uc.store.Query(ctx, desc, p.Symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get klines: %w", err)
	}
	return &GetKlinesResult{
		Table:  desc.Name(),
		Symbol: p.Symbol,
		From:   p.From,
		To:     p.To,
		Count:  len(rows),
		Rows:   rows,
	}, nil
}

// TableInfo describes a registered table.
type TableInfo struct {
	Name        string       `json:"name"`
	Comment     string       `json:"comment,omitempty"`
	TimeKey     string       `json:"time_key"`
	PartitionBy string       `json:"partition_by"`
	OrderBy     []string     `json:"order_by"`
	Columns     []ColumnInfo `json:"columns"`
}

type ColumnInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Primary bool   `json:"primary,omitempty"`
}

// Tables lists every registered table.
func (uc *KlinesQueryUseCase) Tables() []TableInfo {
	all := table.All()
	out := make([]TableInfo, 0, len(all))
	for _, d := range all {
		info := TableInfo{
			Name:        d.Name(),
			Comment:     d.Comment(),
			TimeKey:     d.TimeKey(),
			PartitionBy: d.PartitionBy(),
			OrderBy:     d.OrderBy(),
		}
		for _, c := range d.Columns() {
			info.Columns = append(info.Columns, ColumnInfo{Name: c.Name, Label: c.Label, Type: c.Type.SQLType(), Primary: c.Primary})
		}
		out = append(out, info)
	}
	return out
}

// Health pings the store.
func (uc *KlinesQueryUseCase) Health(ctx context.Context) error {
	return uc.store.Health(ctx)
}
