package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/server/auth"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/dmitrijs2005/counselkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// fail logs unexpected errors before mapping them. Expected outcomes such as
// denials are already logged and audited by the service.
func (s *GRPCServer) fail(ctx context.Context, method string, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.Error(ctx, "request failed", "method", method, "error", err)
	}
	return st
}

func (s *GRPCServer) CreateRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var p services.CreateParams
	var err error

	if p.SubjectID, err = stringField(req, "subject_id"); err != nil {
		return nil, toStatus(err)
	}
	if p.Content, err = stringField(req, "content"); err != nil {
		return nil, toStatus(err)
	}
	occurredOn, err := dateField(req, "occurred_on")
	if err != nil {
		return nil, toStatus(err)
	}
	if occurredOn != nil {
		p.OccurredOn = *occurredOn
	}

	id, err := s.records.Create(ctx, auth.CallerFromContext(ctx), p)
	if err != nil {
		return nil, s.fail(ctx, "Create", err)
	}
	return toStruct(map[string]any{"id": id})
}

func (s *GRPCServer) ReadRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := stringField(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}

	view, err := s.records.Read(ctx, auth.CallerFromContext(ctx), id)
	if err != nil {
		return nil, s.fail(ctx, "Read", err)
	}
	return toStruct(viewFields(*view))
}

func (s *GRPCServer) UpdateRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var p services.UpdateParams

	id, err := stringField(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}
	if p.SubjectID, err = optionalString(req, "subject_id"); err != nil {
		return nil, toStatus(err)
	}
	if p.OccurredOn, err = dateField(req, "occurred_on"); err != nil {
		return nil, toStatus(err)
	}
	if p.Content, err = stringField(req, "content"); err != nil {
		return nil, toStatus(err)
	}

	if err := s.records.Update(ctx, auth.CallerFromContext(ctx), id, p); err != nil {
		return nil, s.fail(ctx, "Update", err)
	}
	return toStruct(map[string]any{"id": id})
}

func (s *GRPCServer) DeleteRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := stringField(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}

	if err := s.records.Delete(ctx, auth.CallerFromContext(ctx), id); err != nil {
		return nil, s.fail(ctx, "Delete", err)
	}
	return toStruct(map[string]any{"id": id})
}

func (s *GRPCServer) ListRecords(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var f models.RecordFilter
	var err error

	if f.SubjectID, err = stringField(req, "subject_id"); err != nil {
		return nil, toStatus(err)
	}
	if f.OccurredFrom, err = dateField(req, "occurred_from"); err != nil {
		return nil, toStatus(err)
	}
	if f.OccurredTo, err = dateField(req, "occurred_to"); err != nil {
		return nil, toStatus(err)
	}
	if f.Limit, err = intField(req, "limit"); err != nil {
		return nil, toStatus(err)
	}
	if f.Offset, err = intField(req, "offset"); err != nil {
		return nil, toStatus(err)
	}

	items, err := s.records.List(ctx, auth.CallerFromContext(ctx), f)
	if err != nil {
		return nil, s.fail(ctx, "List", err)
	}

	out := make([]any, 0, len(items))
	for _, it := range items {
		fields := viewFields(it.RecordView)
		fields["status"] = string(it.Status)
		if it.Status != services.ContentOK {
			delete(fields, "content")
		}
		out = append(out, fields)
	}
	return toStruct(map[string]any{"records": out})
}

func (s *GRPCServer) ExportAuditDay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.exporter == nil {
		return nil, status.Error(codes.Unimplemented, "audit archive is not configured")
	}

	day, err := dateField(req, "day")
	if err != nil {
		return nil, toStatus(err)
	}
	if day == nil {
		return nil, toStatus(fmt.Errorf("%w: day is required", common.ErrorInvalidInput))
	}

	exp, err := s.exporter.ExportDay(ctx, auth.CallerFromContext(ctx), *day)
	if err != nil {
		return nil, s.fail(ctx, "ExportAuditDay", err)
	}
	return toStruct(map[string]any{
		"key":          exp.Key,
		"entries":      float64(exp.Entries),
		"download_url": exp.DownloadURL,
		"day":          day.Format(time.DateOnly),
	})
}
