// Package main (cmd/nodeadmin) implements the admin CLI for the node control
// daemon.
//
// The CLI drives the daemon's login sequence over the control API: it selects
// the location to unlock, answers password and signature requests and watches
// the run state move through the startup phases. It also manages the node's
// PGP identities, both through the daemon and directly against a local data
// directory, and handles identity backup and restore.
//
// Commands:
//
//	status           - Print the run state snapshot; --watch follows changes
//	identities       - List PGP identities in the node keyring
//	locations        - List known locations; --resolve checks DynDNS records
//	select           - Select a location for unlock
//	password         - Answer the pending password request (or --cancel)
//	sign             - Sign the pending challenge with a local key (or --reject)
//	shutdown         - Ask the daemon to shut down
//	import-pgp       - Import an armored PGP key into the node keyring
//	create-location  - Create a new location under an existing identity
//	create-identity  - Generate a fresh PGP identity in a local data directory
//	export           - Back an identity up to file://, s3:// or ipfs://
//	restore          - Fetch a backup, recombining Shamir shares if needed
//
// Example login workflow:
//
//  1. See what the daemon discovered:
//     nodeadmin locations
//
//  2. Select the location to unlock:
//     nodeadmin select --location=<32-char hex id>
//
//  3. Answer the passphrase prompt:
//     nodeadmin password
//
//  4. Follow the startup to running:
//     nodeadmin status --watch
//
// When the node only holds the public half of an identity, the unlock pauses
// on a signature request instead of a password. The challenge is then signed
// with the operator's key held elsewhere:
//
//	nodeadmin sign --key-file=operator-secret.asc
//
// Example backup workflow with Shamir splitting, 2-of-3:
//
//	nodeadmin export --data-dir=/var/lib/noded \
//	    --fingerprint=<40-char hex> --shamir=2/3 --to=file:///var/backups/node
//	nodeadmin restore --from=file:///var/backups/node \
//	    --object=<fp>.share-1 --object=<fp>.share-3 --out=restored.asc
package main
