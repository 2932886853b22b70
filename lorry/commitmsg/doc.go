// Package commitmsg renders the commit message of a mirror update: a title,
// a change summary, the processed source aliases between marker lines, and
// one line per changed path.
package commitmsg
