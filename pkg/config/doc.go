// Package config loads the agent configuration and resource manifests.
//
// The agent configuration is a YAML document with log, store, facts,
// tracing, metrics and watch sections. Missing sections take the values of
// DefaultConfig; environment variables are expanded in path fields before
// validation.
//
//	log:
//	  level: info
//	  destination: /var/log/converge.log
//	store:
//	  driver: sqlite
//	  path: ${STATE_DIR}/state.db
//	metrics:
//	  textfile_path: /var/lib/node_exporter/converge.prom
//
// A manifest lists named sources and file resources:
//
//	sources:
//	  - name: site
//	    location: puppet://server/site
//	resources:
//	  - path: /etc/motd
//	    owner: root
//	    mode: 644
//	    checksum: md5
//	  - path: /srv/www
//	    recurse: inf
//	    group: www-data
//
// Modes are always read as octal, whether or not they carry a leading zero.
package config
