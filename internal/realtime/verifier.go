// README: Adapts the Firebase token verifier to the hub's Verifier.
package realtime

import (
	"context"

	"courierdispatch/internal/infra"
	"courierdispatch/internal/types"
)

type TokenVerifier struct {
	verifier infra.TokenVerifier
}

func NewTokenVerifier(v infra.TokenVerifier) *TokenVerifier {
	return &TokenVerifier{verifier: v}
}

func (t *TokenVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	tok, err := t.verifier.VerifyIDToken(ctx, credential)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: types.ID(tok.UID), Role: tok.Role()}, nil
}
