// Package config loads the service configuration.
//
// Values are layered: built-in defaults first, then the YAML file named by
// PEOPLE_CONFIG_FILE when set, then PEOPLE_* environment variables. The
// identity provider connection also honors KC_BASE_URL, KC_REALM_USER and
// KC_REALM_PASS so existing deployments keep working.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Watch follows the YAML file and hands every valid reload to a callback;
// the server uses it to change the log level without a restart.
package config
