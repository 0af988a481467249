package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(Submission, "submit", "tefPAST_SEQ")
	wrapped := fmt.Errorf("settle: %w", base)

	assert.Equal(t, Submission, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, &Error{Kind: Submission}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: Network}))
}

func TestWrap_ContextErrorsBecomeNetwork(t *testing.T) {
	err := Wrap(Submission, "wait", context.DeadlineExceeded)
	assert.Equal(t, Network, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Nil(t, Wrap(Payment, "pay", nil))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Network, KindOf(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: Payment, Op: "pay", Message: "insufficient funds", Err: errors.New("tecUNFUNDED_PAYMENT")}
	assert.Equal(t, "pay: insufficient funds: tecUNFUNDED_PAYMENT", err.Error())

	noOp := &Error{Kind: Network, Err: errors.New("dial tcp")}
	assert.Equal(t, "dial tcp", noOp.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Invalid))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(Network))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal))
}
