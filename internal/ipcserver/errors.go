package ipcserver

import (
	"errors"

	"github.com/vingar/oidc-agent/internal/agenterr"
)

// errorParts splits err into the wire (message, info) pair the IPC
// envelope carries, unwrapping agenterr.Error to recover its hint.
func errorParts(err error) (string, string) {
	var ae *agenterr.Error
	if errors.As(err, &ae) {
		return ae.Msg, ae.Info
	}
	return err.Error(), ""
}
