package grpc

import (
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/server/services"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return "", nil
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", common.ErrorInvalidInput, key)
	}
	return str.StringValue, nil
}

// optionalString distinguishes an absent key from an empty value.
func optionalString(s *structpb.Struct, key string) (*string, error) {
	if _, ok := s.GetFields()[key]; !ok {
		return nil, nil
	}
	v, err := stringField(s, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// dateField parses a YYYY-MM-DD value. Absent or empty yields nil.
func dateField(s *structpb.Struct, key string) (*time.Time, error) {
	v, err := stringField(s, key)
	if err != nil || v == "" {
		return nil, err
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", common.ErrorInvalidInput, key)
	}
	return &d, nil
}

func intField(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be an integer", common.ErrorInvalidInput, key)
	}
	return int(n.NumberValue), nil
}

func viewFields(v services.RecordView) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"subject_id":  v.SubjectID,
		"owner_id":    v.OwnerID,
		"occurred_on": v.OccurredOn.Format(time.DateOnly),
		"created_at":  v.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  v.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"content":     v.Content,
	}
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return s, nil
}
