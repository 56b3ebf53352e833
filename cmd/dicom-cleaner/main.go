package main

import "dicom-cleaner/internal/cli"

func main() {
	cli.Execute()
}
