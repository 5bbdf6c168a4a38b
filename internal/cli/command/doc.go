// Package command defines the toolhost-cli commands.
package command
