// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Tact grafts missing taxa onto a dated backbone tree using a
// rank-labeled taxonomy tree, drawing new branching times from an
// estimated birth-death process.
package main

import (
	"github.com/js-arias/command"

	"github.com/js-arias/tact/cmd/tact/add"
	"github.com/js-arias/tact/cmd/tact/check"
)

var app = &command.Command{
	Usage: "tact <command> [<argument>...]",
	Short: "add taxa for complete trees",
}

func init() {
	app.Add(add.Command)
	app.Add(check.Command)
}

func main() {
	app.Main()
}
