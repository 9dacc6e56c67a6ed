package client

import "crypto/rsa"

// peer is one entry of the client's directory: a remote identity, its
// published public key, and the session key negotiated with it, if any.
type peer struct {
	name       string
	publicKey  *rsa.PublicKey
	sessionKey []byte
}

func (p *peer) info() PeerInfo {
	return PeerInfo{
		HasPublicKey:  p.publicKey != nil,
		HasSessionKey: p.sessionKey != nil,
	}
}
