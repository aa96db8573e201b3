package envelope

// JoinRequest is the out-of-band payload a new client presents when
// asking to be admitted to a database — e.g. printed to a terminal or
// placed in a QR code by the inviting party.
type JoinRequest struct {
	V                   int    `json:"v"`
	TenantID            string `json:"tenant_id"`
	DBID                string `json:"db_id"`
	UserID              string `json:"user_id"`
	SigningPublicKey    string `json:"signing_public_key"`    // base64
	EncryptionPublicKey string `json:"encryption_public_key"` // base64 DER
}

// JoinResponse is the inviter's reply, carrying the server endpoint the
// new client should connect to and the challenge it can use immediately.
type JoinResponse struct {
	V           int    `json:"v"`
	ServerAddr  string `json:"server_addr"`
	ChallengeID string `json:"challenge_id"`
}

const envelopeVersion = 1

// NewJoinRequest builds a JoinRequest with the current envelope version
// filled in, so callers never forget the v field Decode requires.
func NewJoinRequest(tenantID, dbID, userID, signingPublicKeyB64, encryptionPublicKeyB64 string) JoinRequest {
	return JoinRequest{
		V:                   envelopeVersion,
		TenantID:            tenantID,
		DBID:                dbID,
		UserID:              userID,
		SigningPublicKey:    signingPublicKeyB64,
		EncryptionPublicKey: encryptionPublicKeyB64,
	}
}

// NewJoinResponse builds a JoinResponse with the current envelope version.
func NewJoinResponse(serverAddr, challengeID string) JoinResponse {
	return JoinResponse{V: envelopeVersion, ServerAddr: serverAddr, ChallengeID: challengeID}
}
