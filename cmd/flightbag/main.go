// Command flightbag manages a local disc golf flight catalog and bags.
package main

import "github.com/mesh-intelligence/flightbag/internal/cli"

func main() {
	cli.Execute()
}
