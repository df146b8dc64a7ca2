// main.go - Entry point for geojson-tiler
package main

import "github.com/valpere/geojson_tiler/cmd"

func main() {
	cmd.Execute()
}
