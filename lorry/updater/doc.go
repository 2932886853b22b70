// Package updater runs one lorry mirror update. It regenerates the mirror
// definitions of every configured source, collects the changes under the
// git-mirror and raw-files directories, commits them on a fresh branch named
// after the base branch and the run time, and optionally pushes the branch and
// opens a merge request through a git.GitProvider, deleting the update
// branches of earlier runs first. Changes already carried by the newest
// update branch for the same base branch are not proposed again.
//
// The main entry point is Run, which accepts a Config holding an immutable
// RunContext and the generator, repository and forge collaborators.
package updater
