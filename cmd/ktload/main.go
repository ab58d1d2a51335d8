// Command ktload drives a ktrace server with synthetic quiz attempts and
// verifies that replaying them is idempotent.
package main

func main() {
	Execute()
}
