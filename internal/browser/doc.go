// Package browser implements rotation.Opener and rotation.Session on top of
// chromedp. Each session owns one Chrome process and one tab; Close shuts
// both down.
package browser
