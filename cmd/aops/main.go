// Command aops is the hook process and operator CLI for the academicOps
// agent framework.
package main

import "os"

func main() {
	os.Exit(run())
}
