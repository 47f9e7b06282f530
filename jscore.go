/*
Package jscore implements the JavaScriptCore embedding API (context groups,
global contexts, reference counted values and inheritable native classes) on
top of the goja ECMAScript engine.

A ContextGroup serializes every entry into the engine behind one re-entrant
lock. Each Context owns its own goja realm. Values cross the API boundary as
*Value and *Object handles whose lifetime the embedder may extend with
Protect and Unprotect. Native behavior is attached to objects through a Class,
a chain of ClassDefinitions walked most-derived first on every property
access, call, construction, conversion and instanceof check.
*/
package jscore
