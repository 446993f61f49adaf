package gateway

import (
	"context"
	"errors"
)

// Demo is the no-gateway configuration: every payable is forced to zero
// upstream, so CreateOrder is never reached, and every callback verifies.
type Demo struct{}

func NewDemo() Demo {
	return Demo{}
}

func (Demo) CreateOrder(context.Context, int64, string, string) (string, error) {
	return "", errors.New("demo gateway does not create orders")
}

func (Demo) VerifySignature(string, string, string) bool {
	return true
}
