package config

// AliasFromURLForTest exposes aliasFromURL.
var AliasFromURLForTest = aliasFromURL

// FormatOfForTest exposes formatOf.
var FormatOfForTest = formatOf
