// ABOUTME: Settings store package
// ABOUTME: Persists time sync settings in memory or in Badger
// Package settings stores timesync.Settings with merge-patch updates.
//
// Each store hands out views. A view behaves like one app window: Watch on
// a view reports writes made through any other view of the same store,
// never its own.
//
// Example:
//
//	store, err := settings.OpenBadger("/var/lib/classclock", timesync.DefaultSettings())
//	current, err := store.TimeSyncSettings()
//	err = store.UpdateTimeSyncSettings(timesync.Patch{Enabled: &on})
package settings
