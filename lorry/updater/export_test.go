package updater

// AbsDirForTest exposes absDir.
var AbsDirForTest = absDir

// RenderForTest exposes render.
var RenderForTest = render
