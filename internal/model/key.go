package model

type (
	// KeyPair is the local box key pair, both halves base64 encoded.
	// SecretKey never leaves the client.
	KeyPair struct {
		PublicKey string `json:"publicKey"`
		SecretKey string `json:"secretKey"`
	}

	UploadKeyRequest struct {
		PublicKey string `json:"publicKey"`
	}
)
