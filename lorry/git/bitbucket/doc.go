// Package bitbucket implements a git.GitProvider for Bitbucket Server (Data
// Center) using its REST API directly.
package bitbucket
