package jwtx

// Signer is our interface for anything that can sign JWTs. The SDK itself
// never signs; signers exist so test doubles of the auth service can mint
// realistic tokens.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
}

// NewSignerEdDSA creates an EdDSA signer with a freshly generated key.
func NewSignerEdDSA(kid string) (Signer, error) {
	return newEdDSASigner(kid)
}
