package corrector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

func subjectErr(msg string) handoff.ValidationError {
	return handoff.ValidationError{
		Field:     "content_package.complete_content.subject",
		ErrorType: handoff.ErrorInvalidValue,
		Severity:  handoff.SeverityCritical,
		Message:   msg,
	}
}

func payload() handoff.Payload {
	return handoff.Payload{
		"content_package": map[string]any{
			"complete_content": map[string]any{"subject": "", "body": "text"},
		},
	}
}

func TestCorrectAppliesFixOnCopy(t *testing.T) {
	var calls []string
	f := FixerFunc(func(_ context.Context, field, message string, current any) (any, bool, error) {
		calls = append(calls, field)
		assert.Equal(t, "", current)
		assert.Equal(t, "must not be empty", message)
		return "Spring arrivals", true, nil
	})
	in := payload()

	res, err := New(f).Correct(context.Background(), in, []handoff.ValidationError{subjectErr("must not be empty")})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Applied())
	got, _ := res.Payload.String("content_package.complete_content.subject")
	assert.Equal(t, "Spring arrivals", got)

	orig, _ := in.String("content_package.complete_content.subject")
	assert.Equal(t, "", orig)
	assert.Equal(t, []string{"content_package.complete_content.subject"}, calls)
}

func TestCorrectGroupsErrorsByField(t *testing.T) {
	calls := 0
	var msg string
	f := FixerFunc(func(_ context.Context, _ string, m string, _ any) (any, bool, error) {
		calls++
		msg = m
		return "x", true, nil
	})
	errs := []handoff.ValidationError{subjectErr("a"), subjectErr("b")}
	res, err := New(f).Correct(context.Background(), payload(), errs)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "a; b", msg)
	assert.True(t, res.Success)
}

func TestCorrectSequentialOrderSeesEarlierFixes(t *testing.T) {
	errs := []handoff.ValidationError{
		subjectErr("must not be empty"),
		{Field: "content_package.content_metadata.word_count", Message: "stale"},
	}
	f := FixerFunc(func(_ context.Context, field, _ string, current any) (any, bool, error) {
		if field == "content_package.content_metadata.word_count" {
			return 2.0, true, nil
		}
		return "Two words", true, nil
	})
	res, err := New(f).Correct(context.Background(), payload(), errs)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "content_package.complete_content.subject", res.Attempts[0].Field)
	n, _ := res.Payload.Number("content_package.content_metadata.word_count")
	assert.Equal(t, 2.0, n)
}

func TestCorrectFixerErrorsCountAsNoFix(t *testing.T) {
	f := FixerFunc(func(context.Context, string, string, any) (any, bool, error) {
		return nil, false, errors.New("llm unavailable")
	})
	res, err := New(f).Correct(context.Background(), payload(), []handoff.ValidationError{subjectErr("empty")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Attempts, 1)
	assert.False(t, res.Attempts[0].Applied)
	assert.Contains(t, res.Attempts[0].Detail, "llm unavailable")
}

func TestCorrectDeclinedFix(t *testing.T) {
	f := FixerFunc(func(context.Context, string, string, any) (any, bool, error) { return nil, false, nil })
	res, err := New(f).Correct(context.Background(), payload(), []handoff.ValidationError{subjectErr("empty")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Applied())
}

func TestCorrectCallTimeoutIsNoFix(t *testing.T) {
	f := FixerFunc(func(ctx context.Context, _, _ string, _ any) (any, bool, error) {
		<-ctx.Done()
		return nil, false, ctx.Err()
	})
	res, err := New(f, WithCallTimeout(10*time.Millisecond)).Correct(context.Background(), payload(), []handoff.ValidationError{subjectErr("empty")})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestCorrectPanickingFixerIsNoFix(t *testing.T) {
	f := FixerFunc(func(context.Context, string, string, any) (any, bool, error) { panic("bad fixer") })
	res, err := New(f).Correct(context.Background(), payload(), []handoff.ValidationError{subjectErr("empty")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Attempts[0].Detail, "panic")
}

func TestCorrectCancellationDiscardsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errs := []handoff.ValidationError{
		subjectErr("empty"),
		{Field: "content_package.complete_content.body", Message: "too long"},
	}
	f := FixerFunc(func(_ context.Context, field, _ string, _ any) (any, bool, error) {
		if field == "content_package.complete_content.subject" {
			cancel()
			return "fixed", true, nil
		}
		return "body", true, nil
	})
	res, err := New(f).Correct(ctx, payload(), errs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	got, _ := res.Payload.String("content_package.complete_content.subject")
	assert.Equal(t, "", got)
}

func TestCorrectSkipsUncorrectableFields(t *testing.T) {
	called := false
	f := FixerFunc(func(context.Context, string, string, any) (any, bool, error) {
		called = true
		return "x", true, nil
	})
	res, err := New(f).Correct(context.Background(), payload(), []handoff.ValidationError{{Field: handoff.ChainField}})
	require.NoError(t, err)
	assert.False(t, called)
	assert.False(t, res.Success)
}

func TestCorrectNilFixer(t *testing.T) {
	res, err := New(nil).Correct(context.Background(), payload(), []handoff.ValidationError{subjectErr("empty")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Attempts)
}
