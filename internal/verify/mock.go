package verify

import "context"

// MockVerifier implements Verifier for tests. Assign VerifyFunc to control
// the response; the zero value reports every purchase as missing.
type MockVerifier struct {
	VerifyFunc func(ctx context.Context, ref Ref) (*VerifiedPurchase, error)

	Calls []Ref
}

var _ Verifier = (*MockVerifier)(nil)

func (m *MockVerifier) Verify(ctx context.Context, ref Ref) (*VerifiedPurchase, error) {
	m.Calls = append(m.Calls, ref)
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, ref)
	}
	return nil, ErrPurchaseNotFound
}
