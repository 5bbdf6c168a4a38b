// Package output renders toolhost-cli results as tables, JSON or YAML.
//
// Tables are derived from structs, slices and maps by reflection. Field
// names come from json tags; fields tagged `table:"wide"` only show with
// --wide and `table:"-"` never.
package output
