// Package template reads composition templates.
//
// A composition template is a YAML document naming a composition, its
// version and its element types:
//
//	name: web-shop
//	version: 1.0.0
//	elements:
//	  - id: frontend
//	    type: helm
//	    properties:
//	      chart: shop-frontend
//	      replicas: "{{ replicas }}"
//	  - id: settings
//	    type: configmap
//	    participantId: k8s-1
//
// LoadDir reads a directory of templates and Watcher reports edits to it.
// Element properties may reference instance parameters, which Engine
// substitutes when an instance is created.
package template
