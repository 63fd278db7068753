// Package testsupport provides shared fixtures for package tests: a
// temp-directory config builder and small file helpers.
package testsupport
