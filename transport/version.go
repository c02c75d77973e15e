package transport

// Version1 is QUIC version 1, RFC 9000.
const Version1 uint32 = 0x00000001

// versionSupported reports whether v is a version this implementation can
// speak. Only v1 is supported; anything else triggers version negotiation.
func versionSupported(v uint32) bool {
	return v == Version1
}

// initialSaltV1 is the version-specific salt used to derive Initial
// secrets from the client's destination connection ID, per RFC 9001
// Section 5.2.
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

func initialSaltFor(version uint32) []byte {
	// Only one version is supported today; kept as a function (rather than
	// a constant lookup at call sites) so a future version bump has a
	// single place to add a new salt.
	return initialSaltV1
}
