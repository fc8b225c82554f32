// Package dbfs is the filesystem storage engine behind namespaces. Each
// namespace gets a directory under <data_dir>/dbs holding a namespace.json
// manifest next to its database files.
package dbfs
