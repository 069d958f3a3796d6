//go:build !linux

package main

func defaultWorkspaceMiB() int { return fallbackWorkspaceMiB }
