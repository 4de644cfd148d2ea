//go:build lobbydebug

package session

// Built with -tags lobbydebug, DebugSolo may start single-player matches.
const soloAllowed = true
