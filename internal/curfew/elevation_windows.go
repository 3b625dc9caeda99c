//go:build windows

package curfew

import "golang.org/x/sys/windows"

func processElevated() (bool, string) {
	token := windows.GetCurrentProcessToken()
	if token.IsElevated() {
		return true, "elevated token"
	}
	return false, "limited token"
}
