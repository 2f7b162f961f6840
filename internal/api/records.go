package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/export"
	"github.com/JakeFAU/cert-registry-crawler/internal/subscriber"
	"github.com/JakeFAU/cert-registry-crawler/internal/warehouse"
)

const (
	headerCrawlID         = "X-Crawl-Id"
	headerSkippedPages    = "X-Crawl-Skipped-Pages"
	headerPartial         = "X-Crawl-Partial"
	headerWarehouseErrors = "X-Warehouse-Errors"

	maxTriggerBody = 1 << 16
)

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseRecordsQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.crawler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "crawler not configured")
		return
	}
	if q.Log && s.warehouse == nil {
		s.writeError(w, http.StatusServiceUnavailable, "warehouse not configured")
		return
	}

	v := q.variant()
	logger := s.logger.With(
		zap.String("request_id", requestID(r.Context())),
		zap.String("variant", string(v)),
		zap.String("page", q.Page),
	)
	var res crawler.Result
	if q.all() {
		res, err = s.crawler.CrawlAll(r.Context(), v)
	} else {
		res, err = s.crawler.CrawlPage(r.Context(), v, q.pageIndex())
	}
	if err != nil && !errors.Is(err, crawler.ErrCrawlTimeout) {
		logger.Warn("live crawl failed", zap.String("crawl_id", res.CrawlID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if res.CrawlID != "" {
		w.Header().Set(headerCrawlID, res.CrawlID)
	}
	if res.Partial() {
		w.Header().Set(headerPartial, "true")
		w.Header().Set(headerSkippedPages, strconv.Itoa(len(res.Skipped)))
	}

	if q.Log {
		rowErrs, err := s.load(r, res.Records)
		if err != nil {
			logger.Error("warehouse load failed", zap.String("crawl_id", res.CrawlID), zap.Error(err))
			s.writeError(w, http.StatusBadGateway, "warehouse load: "+err.Error())
			return
		}
		w.Header().Set(headerWarehouseErrors, strconv.Itoa(len(rowErrs)))
		for _, rowErr := range rowErrs {
			logger.Warn("warehouse rejected row",
				zap.String("crawl_id", res.CrawlID),
				zap.Int("index", rowErr.Index),
				zap.String("guid", rowErr.Key),
				zap.Error(rowErr.Err),
			)
		}
	}
	s.writeRecords(w, q.Format, v, res.Records)
}

func (s *Server) load(r *http.Request, records []crawler.Record) ([]*crawler.WarehouseWriteError, error) {
	if len(records) == 0 {
		return nil, nil
	}
	return s.warehouse.Load(r.Context(), records, warehouse.IdentityField)
}

func (s *Server) getCachedRecords(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseCachedQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.warehouse == nil {
		s.writeError(w, http.StatusServiceUnavailable, "warehouse not configured")
		return
	}
	v := crawler.VariantFor(q.GM)
	rows, err := s.warehouse.Query(r.Context(), warehouse.RecentRecordsQuery, string(v), q.Limit)
	if err != nil {
		s.logger.Error("warehouse query failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("variant", string(v)),
			zap.Error(err),
		)
		s.writeError(w, http.StatusBadGateway, "warehouse query failed")
		return
	}
	records, err := warehouse.RecordsFromRows(rows)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeRecords(w, q.Format, v, records)
}

func (s *Server) postCrawl(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "trigger not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body")
		return
	}
	payload, ok := subscriber.DecodePayload(bytes.TrimSpace(body))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.logger.Info("crawl trigger requested",
		zap.String("request_id", requestID(r.Context())),
		zap.Bool("gm", payload.GrandMaster),
	)
	report, err := s.trigger.Run(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	status := http.StatusOK
	if report.Failed() {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, report)
}

func (s *Server) writeRecords(w http.ResponseWriter, format string, v crawler.Variant, records []crawler.Record) {
	if records == nil {
		records = []crawler.Record{}
	}
	if format != formatCSV {
		s.writeJSON(w, http.StatusOK, records)
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, records); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", export.ContentTypeCSV)
	w.Header().Set("Content-Disposition", "attachment; filename="+export.Filename(v))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("write CSV failed", zap.Error(err))
	}
}
