package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/target/mmk-mentions-api/internal/domain/model"
	apperrors "github.com/target/mmk-mentions-api/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: fmt.Errorf("branch news: %w", context.DeadlineExceeded), want: "timeout"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "app error", err: apperrors.StoreUnavailable(goerrors.New("dial")), want: "store_unavailable"},
		{name: "owner key error", err: fmt.Errorf("submit: %w", &model.OwnerKeyError{Field: "user_id"}), want: "model_ownerkeyerror"},
		{name: "plain", err: goerrors.New("boom"), want: "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
