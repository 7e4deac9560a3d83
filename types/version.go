package types

// Version is the canonical project version.
// The CLI, the gateway and the session codec share this version.
const Version = "0.3.0"

// ImplementationName identifies this gateway to remote backends during
// session initialization.
const ImplementationName = "fedsearch"
