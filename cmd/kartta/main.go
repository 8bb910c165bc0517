// Kartta - multi-account AWS resource inventory.
// Discover. Enrich. Reconcile.
package main

func main() {
	Execute()
}
