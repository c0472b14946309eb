// Command metalroop swaps and enhances faces in images and videos.
package main

import "os"

func main() {
	os.Exit(Execute())
}
