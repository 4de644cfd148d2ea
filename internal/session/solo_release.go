//go:build !lobbydebug

package session

const soloAllowed = false
