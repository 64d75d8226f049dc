// Package domain defines the shared types and consumer-side interfaces of the
// relay: the refined event record, wiki catalog metadata, and the upstream
// feed contract. Implementations live in their own packages.
package domain
