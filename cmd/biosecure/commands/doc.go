// Package commands defines the biosecure CLI, a front end to a biosecure
// Storage backed by the software device.
//
// # Commands
//
//   - enroll       Enroll the passcode authenticator
//   - reenroll     Change the passcode, invalidating bound master keys
//   - status       Show enrollment, availability and setup state
//   - put, get     Encrypt and store or load and decrypt a preference entry
//   - delete       Remove a preference entry
//   - put-file     Encrypt data into the file store
//   - get-file     Load and decrypt a file of the file store
//   - delete-file  Remove a file of the file store
//   - sign         Sign data with the asymmetric master key
//   - verify       Verify a signature against the asymmetric master key
//   - reset        Destroy all key material
//   - config       Show or write the configuration file
//
// # Layout
//
// Everything lives under the home directory (--home, $BIOSECURE_HOME or
// ~/.biosecure): config.toml, prefs.db (SQLite preference store), device.db
// (SQLite software device state) and files/ (the encrypted file store).
//
// # Passcode
//
// The passcode is taken from --passcode, then $BIOSECURE_PASSCODE, then an
// interactive prompt on the terminal.
package commands
