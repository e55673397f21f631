package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	models "Pond/internal/domain/models"
	"Pond/internal/domain/table"
	"Pond/internal/usecase"
	xhttp "Pond/pkg/http"
	xlogger "Pond/pkg/logger"
	"Pond/pkg/util"
)

// KlinesEchoHandler serves the ops API: stored bars, gap reports and
// on-demand repair.
type KlinesEchoHandler struct {
	logger *xlogger.Logger
	query  *usecase.KlinesQueryUseCase
	sync   *usecase.KlineSync
}

func NewKlinesEchoHandler(logger *xlogger.Logger, query *usecase.KlinesQueryUseCase, sync *usecase.KlineSync) *KlinesEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &KlinesEchoHandler{logger: logger, query: query, sync: sync}
}

func (h *KlinesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/tables", h.Tables)
	g.GET("/klines", h.Klines)
	g.GET("/gaps", h.Gaps)
	g.POST("/supply", h.Supply)
}

func (h *KlinesEchoHandler) Health(c echo.Context) error {
	if err := h.query.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *KlinesEchoHandler) Tables(c echo.Context) error {
	tables := h.query.Tables()
	return xhttp.ListResponse(c, tables, int64(len(tables)))
}

func (h *KlinesEchoHandler) Klines(c echo.Context) error {
	req := &models.KlinesQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	to := util.ParseTimeDefault(req.To, time.Now().UTC())
	from := util.ParseTimeDefault(req.From, to.Add(-7*24*time.Hour))

	res, err := h.query.GetKlines(c.Request().Context(), usecase.GetKlinesParams{
		Table: req.Table, Symbol: req.Symbol, From: from, To: to, Limit: req.Limit,
	})
	if err != nil {
		h.logger.Error("klines usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

type gapsResult struct {
	Table   string     `json:"table"`
	Symbol  string     `json:"symbol"`
	Lack    []int64    `json:"lack"`
	Windows [][]string `json:"windows"`
}

func (h *KlinesEchoHandler) Gaps(c echo.Context) error {
	req := &models.GapsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, aerr := parseRange(req.From, req.To)
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}

	lack, err := h.sync.Gaps(c.Request().Context(), req.Table, req.Symbol, models.Interval(req.Interval), from, to, req.Column)
	if err != nil {
		h.logger.Error("gaps usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	res := gapsResult{Table: req.Table, Symbol: req.Symbol, Lack: lack, Windows: make([][]string, 0, len(lack)/2)}
	for i := 0; i+1 < len(lack); i += 2 {
		res.Windows = append(res.Windows, []string{util.FormatMillis(lack[i]), util.FormatMillis(lack[i+1])})
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *KlinesEchoHandler) Supply(c echo.Context) error {
	req := &models.SupplyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, aerr := parseRange(req.From, req.To)
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	source := req.Source
	if source == "" {
		source = defaultSource(req.Table)
	}

	res, err := h.sync.Repair(c.Request().Context(), usecase.RepairParams{
		Table:    req.Table,
		Source:   source,
		Symbol:   req.Symbol,
		Interval: models.Interval(req.Interval),
		From:     from,
		To:       to,
	})
	if err != nil {
		h.logger.Error("supply usecase error",
			xlogger.String("table", req.Table),
			xlogger.String("symbol", req.Symbol),
			xlogger.Error(err))
		aerr := mapError(err)
		if res != nil {
			aerr.WithParam("rows", res.Rows)
		}
		return xhttp.AppErrorResponse(c, aerr)
	}
	return xhttp.SuccessResponse(c, res)
}

func parseRange(fromS, toS string) (time.Time, time.Time, *xhttp.AppError) {
	from, ok := util.ParseTime(fromS)
	if !ok {
		return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("invalid from %q", fromS)
	}
	to, ok := util.ParseTime(toS)
	if !ok {
		return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("invalid to %q", toS)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("to must be after from")
	}
	return from, to, nil
}

// defaultSource picks the upstream that feeds tbl.
func defaultSource(tbl string) string {
	if strings.HasPrefix(tbl, "kline_futures") {
		return "binance"
	}
	return "polygon"
}

func mapError(err error) *xhttp.AppError {
	var serr *usecase.SupplyError
	switch {
	case errors.Is(err, usecase.ErrUnknownTable):
		return xhttp.NotFoundErrorf("%v", err).WithError(err)
	case errors.Is(err, usecase.ErrUnknownSource), errors.Is(err, table.ErrSchemaMismatch):
		return xhttp.BadRequestErrorf("%v", err).WithError(err)
	case errors.Is(err, usecase.ErrLocked):
		return xhttp.ConflictErrorf("%v", err).WithError(err)
	case errors.As(err, &serr):
		return xhttp.BadGatewayErrorf("%d window(s) failed", len(serr.Failures)).WithError(err)
	case errors.Is(err, xhttp.ErrStatus):
		return xhttp.BadGatewayErrorf("upstream error").WithError(err)
	default:
		return xhttp.InternalErrorf("internal error").WithError(err)
	}
}
